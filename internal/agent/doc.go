// Package agent 提供可注册到注册表的具体 worker：
// 基于文本补全服务的分析、写作、审校 worker，读取链上状态的链 worker，
// 以及生成结构化预览载荷的预览 worker。
package agent
