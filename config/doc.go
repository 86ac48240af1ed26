// Package config 提供 Stepflow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → STEPFLOW_* 环境变量 的顺序合并，
// 由 Config.Validate 统一校验。FileWatcher 以轮询方式实现 ChangeNotifier，
// Reloader 在文件变更时重新加载并把字段级差异通知给回调，
// 例如运行时调整状态存储的快照与压缩阈值。
package config
