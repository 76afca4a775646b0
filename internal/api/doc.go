// Package api 基于 gin 暴露 HTTP 接口：查询 Agent、同步执行命令，
// 以及提交和查询异步命令任务。
package api
