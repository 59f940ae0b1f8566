// Copyright (c) PoolGovernor Authors.
// Licensed under the MIT License.

/*
包 cache 基于 go-redis 提供配置快照存储与 Redis 连接池采样。

# 核心类型

  - Manager：持有 Redis 客户端，提供 Get/Set/GetJSON/SetJSON/Delete/Ping，
    后台定时 Ping 并通过 zap 告警。
  - SnapshotStore：governor.Observer，配置变化时把最新 PoolConfig
    以 JSON 写入 prefix+pool；服务启动时可用 Load 恢复。
  - PoolSampler：sampling.Source，把 redis.PoolStats 的累计计数
    转换为按差值上报的 PoolObservation。

go-redis 不支持运行时调整连接池大小，Redis 连接池只观测不应用。
*/
package cache
