// Copyright (c) PoolGovernor Authors.
// Licensed under the MIT License.

/*
Package main 提供 PoolGovernor 服务端程序入口。

# 概述

cmd/poolgovernor 是连接池调控服务的可执行入口，提供 HTTP API 服务、
审计表迁移、负载模拟、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标、OpenTelemetry 追踪以及策略热重载。

# 核心类型

  - Server           — 组装调控器注册表、协作方连接与 HTTP/Metrics 双端口
  - Middleware       — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - syntheticPool    — simulate 命令使用的确定性连接池模型

# 主要能力

  - 子命令：serve、migrate、simulate、version、health
  - 数据来源：push（HTTP 上报）、database（sql.DB 统计）、redis、mongo
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、RequestLogger、
    Metrics、CORS，按配置追加 RateLimiter、APIKeyAuth、JWTAuth
  - 热重载：配置文件变更时替换所有调控器的策略
  - 优雅关闭：信号取消 ctx → 停止调控循环与采样 → 关闭 HTTP → 释放连接与遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
