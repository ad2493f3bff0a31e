// Package vault 负责私钥的生成、导入、清除与可选的密码门。
//
// 私钥只通过 storage.Store 持久化，不会被写入日志、错误或回执。
package vault
