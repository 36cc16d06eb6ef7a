// Package coordination 在多个 worker 之间按顺序委派同一条命令。
//
// 模板流水线是严格的数据依赖链，任一步失败即中止并带回已执行的步骤；
// 动态流水线按注册表顺序扇出到路由匹配的全部 worker 类型，失败不中止。
// 两种形式都通过 session.Store 在步骤之间共享结果，并在结束后提取
// worker 声明的结构化载荷提升到顶层结果。
package coordination
