// Package agent 将插件注册表与分发器组合成进程级的 Host，
// 供 API、CLI 与异步任务处理器以统一方式加载 Agent 并执行命令。
package agent
