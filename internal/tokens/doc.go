// Package tokens 维护按会话缓存的资产列表，并把用户输入的符号或地址解析为资产描述。
package tokens
