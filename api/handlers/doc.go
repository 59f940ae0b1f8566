// Copyright (c) PoolGovernor Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 poolgovernor HTTP API 的请求处理器实现。

# 核心类型

  - PoolHandler      — 连接池查询、观测上报、Tick、重置、策略与审计
  - WatchHandler     — websocket 推送配置快照与每次变化
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、pool、retryable
  - HealthCheck      — 可插拔健康检查接口（PingHealthCheck、GovernorHealthCheck）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码映射，未知连接池统一返回 POOL_NOT_FOUND
  - 对外时长统一以毫秒表示（ConfigView、PolicyView）
  - 策略 PUT 为部分更新，未携带的字段保留当前值
*/
package handlers
