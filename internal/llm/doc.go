// Package llm 定义文本补全服务的统一接口。
//
// 具体实现位于子包：openai 通过 Chat Completions API 调用模型，
// pythonbridge 通过外部脚本调用本地模型。BreakerClient 为任意实现加上熔断保护。
package llm
