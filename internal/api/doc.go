// Package api 通过 REST 接口暴露 orchestrator：提交命令、查看注册表快照、
// 读取会话与路由规则，以及运维用的 worker 重新激活。
package api
