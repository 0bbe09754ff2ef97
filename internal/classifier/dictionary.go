package classifier

import (
	"strings"

	"github.com/claimscope/analyzer/internal/models"
)

// Rule maps a set of literals to one label. Literals are matched as
// case-insensitive substrings; "|" in a pattern only separates literals.
type Rule struct {
	Pattern  string
	Label    string
	Keywords []string
}

func newRule(pattern, label string) Rule {
	var kws []string
	for _, kw := range strings.Split(pattern, "|") {
		if kw = strings.TrimSpace(kw); kw != "" {
			kws = append(kws, kw)
		}
	}
	return Rule{Pattern: pattern, Label: label, Keywords: kws}
}

var efficacyRules = []Rule{
	newRule("保湿|滋润|水润|锁水|补水|保水|润泽|湿润|水分|水嫩", "保湿"),
	newRule("美白|祛斑|亮白|透亮|去斑|淡斑|提亮|均匀肤色|白皙|净白", "祛斑美白"),
	newRule("抗皱|去皱|除皱|皱纹|纹路|细纹|表情纹|法令纹|鱼尾纹|抬头纹", "抗皱"),
	newRule("紧致|紧实|弹性|胶原|提拉|lifting|firmness|弹力", "紧致"),
	newRule("滋养|润养|养护|深层滋养|营养", "滋养"),
	newRule("修护|修复|屏障|强韧|修复力", "修护"),
	newRule("清洁|洗净|去污|清洗|冲洗|洁净|深层清洁|彻底清洁|温和清洁", "清洁"),
	newRule("控油|吸油|去油|油腻|油光|T区|出油|哑光|清爽", "控油"),
	newRule("舒缓|缓解|减轻|改善刺激|镇静|敏感|刺激", "舒缓"),
	newRule("防晒|隔离|阻挡|紫外线|UV|SPF|PA|日晒|阳光", "防晒"),
	newRule("护发|柔顺|丝滑|光泽|shine|顺滑|柔软|梳理|防静电|蓬松", "护发"),
	newRule("祛痘|痘痘|粉刺|青春痘|暗疮|痤疮|黑头|白头|闭口", "祛痘"),
	newRule("染发|着色|上色|显色|彩色|发色|调色|漂色", "染发"),
	newRule("烫发|卷发|直发|弯曲|拉直|造型|定型|塑型|波浪", "烫发"),
	newRule("卸妆|卸除|卸掉|去妆|卸妆水|卸妆油|卸妆乳|卸妆膏|清除彩妆", "卸妆"),
	newRule("美容|修饰|妆容|彩妆|化妆|遮瑕|遮盖|掩盖|美化", "美容修饰"),
	newRule("香|香味|香气|留香|体香|香调|香水|芳香|香氛|香精", "芳香"),
	newRule("除臭|去味|去异味|抑制异味|防臭|消臭|止汗|腋下|体味", "除臭"),
	newRule("去角质|角质|exfoliate|磨砂|剥脱|脱皮|死皮|果酸|酵素", "去角质"),
	newRule("爽身|干爽|清凉|凉爽|清爽|舒适|透气|凉感|薄荷", "爽身"),
	newRule("防脱|脱发|掉发|固发|育发|生发|发根|发量|浓密", "防脱发"),
	newRule("防断发|断发|分叉|韧性|强韧|坚韧|发丝强度", "防断发"),
	newRule("去屑|头屑|dandruff|头皮屑|鳞屑|片状|白屑", "去屑"),
	newRule("发色护理|护色|锁色|保色|发色|色彩|颜色保持", "发色护理"),
	newRule("脱毛|除毛|去毛|hair removal|腿毛|腋毛|体毛", "脱毛"),
	newRule("剃须|剃毛|shaving|胡须|胡子|刮胡", "辅助剃须剃毛"),
}

var typeRules = []Rule{
	newRule("温和|无刺激|不刺激|亲肤|gentle|mild|温柔|柔和|低刺激|0刺激", "温和宣称"),
	newRule("敏感肌|敏感", "敏感肌宣称"),
	newRule("成分|原料|ingredient|含有|添加|富含|萃取|extract|精华|配方|活性物", "原料功效"),
	newRule("24小时|12小时|8小时|持续|%|倍|次|程度|测试|临床|数据|调查|数字", "量化指标"),
	newRule("喜欢|喜好|满意|推荐|好评|评価|好用|实用|有效|回购|点赞", "喜好度"),
	newRule("质地|texture|丝滑|绵密|轻盈|粘腻|厚重|轻薄|浓稠|延展性|触感", "质地"),
	newRule("感觉|感受到|体验|使用时|抹开|涂抹|上脸|第一感觉|瞬间|触碰", "使用感受"),
	newRule("使用后|用完|涂完|肌肤.*了|让.*肌|皮肤变得|坚持使用|长期使用|效果", "使用后体验"),
}

var durationRules = []Rule{
	newRule("即刻|立即|瞬间|马上|快速|即时|当下|现在|立竿见影|秒|瞬时|急速", "即时"),
	newRule("持久|长效|持续|24小时|12小时|8小时|48小时|72小时|长时间|长期|逐渐|慢慢|天|日|周|月|年|小时|分钟|持续性|耐久|恒久|7天|3天|5天|10天|30天|一周|一月|全天|整夜", "持久"),
}

// BaseRules returns the fixed rule table of a dimension in matching order.
func BaseRules(d models.Dimension) []Rule {
	switch d {
	case models.DimensionEfficacy:
		return efficacyRules
	case models.DimensionType:
		return typeRules
	default:
		return durationRules
	}
}

// BaseKeywordMapping returns the fixed dictionary as pattern -> label per
// dimension, the form it takes in exported learning files.
func BaseKeywordMapping() map[models.Dimension]map[string]string {
	out := make(map[models.Dimension]map[string]string, len(models.Dimensions))
	for _, d := range models.Dimensions {
		m := make(map[string]string)
		for _, r := range BaseRules(d) {
			m[r.Pattern] = r.Label
		}
		out[d] = m
	}
	return out
}
