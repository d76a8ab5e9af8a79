package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tokenwatch/internal/storage"
)

func sampleAlerts(n int) []storage.AlertRecord {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	alerts := make([]storage.AlertRecord, 0, n)
	for i := 0; i < n; i++ {
		alerts = append(alerts, storage.AlertRecord{
			ID:        int64(i + 1),
			Token:     "PEPE",
			Strategy:  "absolute_volume",
			Strength:  50 + i%50,
			Message:   "放量信号",
			ChatID:    "chat",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return alerts
}

func TestDownsample(t *testing.T) {
	alerts := sampleAlerts(100)

	thinned := Downsample(alerts, 10)
	if len(thinned) != 10 {
		t.Fatalf("降采样后应有10条, 实际 %d", len(thinned))
	}
	if thinned[0].ID != alerts[0].ID {
		t.Fatal("降采样应保留首条")
	}
	if thinned[len(thinned)-1].ID != alerts[len(alerts)-1].ID {
		t.Fatal("降采样应保留末条")
	}

	if got := Downsample(alerts, 200); len(got) != 100 {
		t.Fatalf("上限高于条数时应原样返回, 实际 %d", len(got))
	}
	if got := Downsample(alerts, 0); len(got) != 100 {
		t.Fatalf("上限为0时应原样返回, 实际 %d", len(got))
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.csv")

	if err := WriteCSV(path, sampleAlerts(5)); err != nil {
		t.Fatalf("WriteCSV 失败: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("打开CSV失败: %v", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("读取CSV失败: %v", err)
	}
	if len(rows) != 6 {
		t.Fatalf("应有表头加5行数据, 实际 %d", len(rows))
	}
	if rows[0][1] != "token" {
		t.Fatalf("表头不正确: %v", rows[0])
	}
	if rows[1][1] != "PEPE" {
		t.Fatalf("数据行不正确: %v", rows[1])
	}
}

func TestWritePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "alerts.png")

	if err := WritePNG(path, sampleAlerts(20)); err != nil {
		t.Fatalf("WritePNG 失败: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("PNG 文件应存在: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("PNG 文件不应为空")
	}
}
