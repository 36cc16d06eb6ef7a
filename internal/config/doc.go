// Package config 负责加载 AgentHub 的 YAML 配置，补齐默认值并用环境变量覆盖敏感字段。
package config
