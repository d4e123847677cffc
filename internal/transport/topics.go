package transport

// 主题命名规范：分层命名 + 版本后缀。
// 迁移窗口内旧主题名保持并行订阅/发布，由各实现按 LegacyTopicAlias 处理。

const (
	// TopicSigning 签名会话消息（提案、nonce、分片签名、中止、拒绝）
	TopicSigning = "lotus/signing/v1"

	// TopicPeerExchange 中继节点广播已连接节点列表的固定主题
	TopicPeerExchange = "lotus/peer-exchange/v1"

	legacyTopicSigning      = "musig2-session"
	legacyTopicPeerExchange = "peer-exchange"
)

// TopicDiscovery 按能力分类的签名者广告主题
func TopicDiscovery(capability string) string {
	return "discovery/" + capability
}

// TopicDiscoveryRequest 按能力分类的签名者请求主题
func TopicDiscoveryRequest(capability string) string {
	return "discovery/" + capability + "-request"
}

// LegacyTopicAlias 返回主题的旧名称；无旧名称时返回空串
func LegacyTopicAlias(topic string) string {
	switch topic {
	case TopicSigning:
		return legacyTopicSigning
	case TopicPeerExchange:
		return legacyTopicPeerExchange
	}
	return ""
}
