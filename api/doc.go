// Copyright (c) PoolGovernor Authors.
// Licensed under the MIT License.

// Package api 是 poolgovernor HTTP API 的根包。
//
// # API 概览
//
// poolgovernor 通过 RESTful API 暴露：
//   - 各连接池的统计、推荐配置与人工建议
//   - 协作方上报观测值（部分更新）
//   - 手动 Tick、重置与策略热替换
//   - 调整审计记录查询
//   - 配置变化的 websocket 推送
//
// # 认证
//
// 除健康检查与版本接口外，配置了 API Key 时需要携带：
//
//	X-API-Key: your-api-key
//
// 配置了 JWT 时需要携带：
//
//	Authorization: Bearer <token>
//
// # Base URL
//
//	http://localhost:8080/api/v1
//
// 具体处理器见子包 handlers。
package api
