// Copyright (c) PoolGovernor Authors.
// Licensed under the MIT License.

/*
包 migration 管理调整审计表 pool_adjustments 的 Schema，基于
golang-migrate，支持 PostgreSQL、MySQL 与 SQLite。

各方言的 SQL 通过 embed.FS 内嵌在 migrations/<dialect>/ 下，
版本号在三个方言间保持一致，表结构与 internal/database.AdjustmentRecord
一一对应。

  - SchemaMigrator：Open / OpenFromConfig 创建，操作接受 context，
    取消时在当前迁移完成后停止（golang-migrate GracefulStop）。
  - URLFromConfig：把 database 配置转换为迁移连接串。
  - CLI：poolgovernor migrate 的子命令表与终端输出。
*/
package migration
