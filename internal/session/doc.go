// Package session 把私钥与网络绑定为可执行操作的会话，并在两者变化时同步失效。
package session
