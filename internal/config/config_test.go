package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentmarket.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("默认监听地址 = %s, want :8080", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "memory" || cfg.Storage.BudgetDriver != "store" {
		t.Fatalf("默认存储驱动不符: %+v", cfg.Storage)
	}
	if cfg.Queue.Driver != "memory" || cfg.Queue.Size != 1024 {
		t.Fatalf("默认队列配置不符: %+v", cfg.Queue)
	}
	if cfg.Engine.Workers != 4 || cfg.Engine.Dispatcher != "simulated" {
		t.Fatalf("默认引擎配置不符: %+v", cfg.Engine)
	}
	if cfg.Billing.DrainSpec != "@every 30s" || cfg.Billing.DrainBatch != 50 {
		t.Fatalf("默认计费配置不符: %+v", cfg.Billing)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("默认日志配置不符: %+v", cfg.Logging)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentmarket.json")
	raw := `{
		"catalog": {"path": "catalog.yaml"},
		"logging": {"audit": {"enabled": true, "path": "logs/audit.log"}}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Catalog.Path != filepath.Join(dir, "catalog.yaml") {
		t.Fatalf("目录路径 = %s", cfg.Catalog.Path)
	}
	if cfg.Logging.Audit.Path != filepath.Join(dir, "logs/audit.log") {
		t.Fatalf("审计路径 = %s", cfg.Logging.Audit.Path)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("缺失文件应当报错")
	}
}
