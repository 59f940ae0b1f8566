// Copyright (c) PoolGovernor Authors.
// Licensed under the MIT License.

/*
包 mongomon 通过 mongo-driver 的连接池事件（CMAP）统计 MongoDB
连接池状态，并作为 sampling.Source 向调控器提供观测值。

driver 不支持运行时修改连接池大小，推荐配置只用于观测与建议。
*/
package mongomon
