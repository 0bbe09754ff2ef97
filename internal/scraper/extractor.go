package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
)

const (
	DefaultSelector  = "body"
	DefaultUserAgent = "ClaimScope-Bot/1.0"
	noiseSelector    = "script, style, noscript, nav, footer, header, iframe, svg"
	blockSelector    = "p, li, div, section, article, h1, h2, h3, h4, h5, h6, tr, dd, dt, blockquote"
)

var ErrNoContent = errors.New("no content extracted from page")

type ExtractorOptions struct {
	UserAgent      string
	Timeout        time.Duration
	Delay          time.Duration
	AllowedDomains []string
}

// ClaimExtractor fetches product pages and returns their claim lines.
type ClaimExtractor struct {
	opts      ExtractorOptions
	processor *ContentProcessor
	logger    *logrus.Logger
}

func NewClaimExtractor(opts ExtractorOptions, logger *logrus.Logger) *ClaimExtractor {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &ClaimExtractor{
		opts:      opts,
		processor: NewContentProcessor(),
		logger:    logger,
	}
}

// Extract visits pageURL and returns the claim lines found under selector.
func (e *ClaimExtractor) Extract(ctx context.Context, pageURL, selector string) ([]string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("invalid page URL %q", pageURL)
	}
	if selector == "" {
		selector = DefaultSelector
	}

	var texts []string
	var processingError error

	// A new collector per page avoids visited-URL state between calls.
	c := colly.NewCollector(
		colly.UserAgent(e.opts.UserAgent),
	)
	if len(e.opts.AllowedDomains) > 0 {
		c.AllowedDomains = e.opts.AllowedDomains
	}
	if e.opts.Delay > 0 {
		if err := c.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Parallelism: 1,
			Delay:       e.opts.Delay,
		}); err != nil {
			return nil, fmt.Errorf("failed to configure rate limit: %w", err)
		}
	}
	c.SetRequestTimeout(e.opts.Timeout)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	c.OnHTML(selector, func(el *colly.HTMLElement) {
		texts = append(texts, selectionText(el.DOM))
	})

	c.OnError(func(r *colly.Response, err error) {
		processingError = fmt.Errorf("request failed with status %d: %w", r.StatusCode, err)
	})

	if err := c.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("failed to visit page: %w", err)
	}
	c.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if processingError != nil {
		return nil, processingError
	}

	claims := e.processor.SplitClaims(strings.Join(texts, "\n"))
	if len(claims) == 0 {
		return nil, ErrNoContent
	}

	e.logger.WithFields(logrus.Fields{
		"url":      pageURL,
		"selector": selector,
		"claims":   len(claims),
	}).Debug("Claims extracted")
	return claims, nil
}

// ExtractHTML reads a saved page and returns the claim lines found under
// selector.
func (e *ClaimExtractor) ExtractHTML(r io.Reader, selector string) ([]string, error) {
	if selector == "" {
		selector = DefaultSelector
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var texts []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		texts = append(texts, selectionText(s))
	})

	claims := e.processor.SplitClaims(strings.Join(texts, "\n"))
	if len(claims) == 0 {
		return nil, ErrNoContent
	}
	return claims, nil
}

// Processor exposes the text cleaner used for plain-text input.
func (e *ClaimExtractor) Processor() *ContentProcessor {
	return e.processor
}

// selectionText returns the visible text of s with block boundaries kept as
// line breaks.
func selectionText(s *goquery.Selection) string {
	s = s.Clone()
	s.Find(noiseSelector).Remove()
	s.Find("br").ReplaceWithHtml("\n")
	s.Find(blockSelector).AppendHtml("\n")
	return s.Text()
}
