// Copyright (c) PoolGovernor Authors.
// Licensed under the MIT License.

/*
包 database 把 GORM/database/sql 连接池接入调控器，负责采样、
应用调控结果与调整审计。

# 概述

PoolManager 是数据库连接池的协作方：它周期性读取 sql.DBStats，
换算为调控器的观测值，并在配置变化时把 Max/Min/IdleTimeout
应用回 sql.DB。AuditStore 把每次规则触发写入 pool_adjustments 表。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，实现 sampling.Source
    与 governor.Observer，提供 Ping()、Acquire()、Stats()、Close()。
  - AdjustmentRecord：pool_adjustments 表的一行。
  - AuditStore：异步审计写入器，实现 governor.Observer。

# 主要能力

  - 观测换算：InUse/Idle 取当前值，WaitCount 与各类关闭计数取周期增量。
  - 配置应用：SetMaxOpenConns/SetMaxIdleConns/SetConnMaxIdleTime。
  - 超时：Ping 使用 ConnectionTimeout，Acquire 使用 AcquireTimeout。
  - 审计写入重试：按 SQLSTATE、MySQL 错误号与断连判断，指数退避。
*/
package database
