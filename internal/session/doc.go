// Package session 提供会话级共享上下文的存储实现。
//
// 共享上下文由会话交互日志与字符串键的暂存区组成，值统一以 JSON 形式保存，
// 因此读取到的值与写入时的具体类型可能不同（例如结构体会以 map 返回）。
// 内置内存、Redis 与 MySQL 三种实现。
package session
