// Package adapter 定义协议适配器的能力接口（资产列表、兑换、借贷、质押、价格），
// 具体实现位于子包中：bridge 通过外部脚本调用协议 SDK，openocean 与 pyth 直接访问 HTTP API。
package adapter
