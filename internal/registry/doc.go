// Package registry 维护 worker 的注册表。
//
// 注册表以 byID 与 byName 两个索引指向同一条记录，记录中的状态是
// "是否处于激活态" 的唯一依据。注册、停用与健康巡检降级在同一把锁下串行执行，
// 健康检查本身在锁外调用，巡检由 cron 调度，与任务调度互不等待。
package registry
