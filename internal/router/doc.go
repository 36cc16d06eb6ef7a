// Package router 将自由文本命令映射为路由决策。
//
// 路由分三个阶段：显式目标覆盖、协作规则阶段、单体规则阶段。
// 协作规则总是先于单体规则匹配，与声明的优先级无关。
package router
