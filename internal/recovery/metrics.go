package recovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/louisbranch/worldvault/internal/worldstore"
)

var (
	backupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldvault_backups_total",
		Help: "Backups created by type",
	}, []string{"type"})

	restoresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldvault_restores_total",
		Help: "Restores applied by mode",
	}, []string{"mode"})

	corruptionDetectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldvault_corruption_detected_total",
		Help: "Corruption detections by kind",
	}, []string{"kind"})
)

func observeBackup(backupType worldstore.BackupType) {
	backupsTotal.WithLabelValues(string(backupType)).Inc()
}

func observeRestore(mode RestoreMode) {
	restoresTotal.WithLabelValues(string(mode)).Inc()
}

func observeCorruption(kind worldstore.CorruptionKind) {
	corruptionDetectedTotal.WithLabelValues(string(kind)).Inc()
}
