// Package api 通过 REST 与 WebSocket 暴露待办和分类接口，
// 路由基于 gorilla/mux，响应统一包裹为 {"data": ...} 或 {"error": ..., "code": ...}。
package api
