// Package orchestrator 是核心门面：接收自由文本命令，经路由选择单个 worker
// 或协作流水线执行，并把交互记录写入会话。所有对外结果都是 worker.Result，
// 任何异常都不会越过 SubmitCommand 的边界。
package orchestrator
