package controller

import (
	"github.com/campusgate/gatepad/server/model"
)

// ScannerCtl контроллер управления группой киосков-сканеров
//go:generate mockery --dir . --name ScannerCtl --output ./mocks
type ScannerCtl interface {
	// Ожидает очередной распознанный QR-код с любого из киосков
	EmitDecode() (*model.DecodeEvent, error)
}
