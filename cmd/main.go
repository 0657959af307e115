package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/campusgate/gatepad/server/controller/manager"
	scannerCtlMod "github.com/campusgate/gatepad/server/controller/scanner"
	"github.com/campusgate/gatepad/server/model"
	"github.com/campusgate/gatepad/server/pkg/config"
	"github.com/campusgate/gatepad/server/pkg/logger"
	"github.com/campusgate/gatepad/server/service"
	alertSvcMod "github.com/campusgate/gatepad/server/service/alerts"
	scannerSvcMod "github.com/campusgate/gatepad/server/service/scanner"
	skudSvcMod "github.com/campusgate/gatepad/server/service/skud"
	webSvcMod "github.com/campusgate/gatepad/server/service/web"
	dbStoreMod "github.com/campusgate/gatepad/server/store/db"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
)

var (
	cfg *config.Config
	log *logrus.Logger
)

func init() {
	cfg = config.Get()
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.WarnLevel
	}
	log = logger.GetWithConfig(logger.Config{
		File:    cfg.Log.Filename,
		Level:   level,
		Console: cfg.Log.Console,
	})
}

func main() {

	err := run()
	if err != nil {
		fmt.Printf("ОШИБКА: в процессе работы произошла ошибка: %v\n", err)
		fmt.Printf("Для подробностей смотри лог: %s/%s\n", cfg.Log.Path, cfg.Log.Filename)
		log.Fatal(errors.ErrorStack(err))
	}
}

func run() error {
	// Отлавливаем сигнал завершения работы программы
	chanInterrupt := make(chan os.Signal, 1)
	signal.Notify(chanInterrupt, os.Interrupt)

	done := make(chan error)
	ctx, cancel := context.WithCancel(context.Background())
	_ = cancel

	// region Настройка БД

	dbStore, err := dbStoreMod.NewDb(ctx, &dbStoreMod.ConfigDb{
		Log:          log,
		DbFile:       filepath.Join(cfg.Db.Path, cfg.Db.Filename),
		RootPhotoDir: cfg.Http.PhotoDir,
	})
	if err != nil {
		return errors.Trace(err)
	}

	// endregion
	// region Настройка клиента СКУД

	skudSvc, err := skudSvcMod.NewSkud(ctx, &skudSvcMod.ConfigSkud{
		Log:            log,
		URL:            cfg.Skud.URL,
		RequestTimeout: time.Second * time.Duration(cfg.Skud.RequestTimeout),
	})
	if err != nil {
		return errors.Trace(err)
	}

	alertSvc, err := alertSvcMod.NewWebsocket(ctx, &alertSvcMod.ConfigWebsocket{
		Log:               log,
		AlertsURL:         cfg.Skud.AlertsURL,
		ReconnectAttempts: cfg.Skud.ReconnectAttempts,
		ReconnectTimeout:  time.Second * time.Duration(cfg.Skud.ReconnectTimeout),
	})
	if err != nil {
		return errors.Trace(err)
	}

	// endregion
	// region Инициализация киосков-сканеров
	// Формирование списка опрашиваемых киосков и запуск их мониторинга

	scanners := make([]service.ScannerSvc, 0)
	for _, i := range cfg.Scanner.Info {
		scannerInfo := model.ScannerInfo{
			ID:          i.ID,
			URL:         i.Address,
			Name:        i.Name,
			Description: i.Description,
		}

		scannerSvc, err := scannerSvcMod.NewWebsocket(ctx, &scannerSvcMod.ConfigWebsocket{
			Log:         log,
			ScannerInfo: scannerInfo,
		})
		if err != nil {
			return errors.Trace(err)
		}
		scanners = append(scanners, scannerSvc)
	}

	scannersAll, err := scannerCtlMod.NewScanner(ctx, scanners, dbStore, &scannerCtlMod.ConfigScanner{
		Log: log,
	})
	if err != nil {
		return errors.Trace(err)
	}

	// endregion
	// region Контроллер WEB

	webSvc, err := webSvcMod.NewWeb(ctx, skudSvc, dbStore, &webSvcMod.ConfigWeb{
		Log:       log,
		WebPort:   cfg.Http.Port,
		AssetsDir: cfg.Http.AssetsDir,
	})
	if err != nil {
		return errors.Trace(err)
	}

	webSvc.Static("/")
	webSvc.Api("/api")
	webSvc.Feed("/feed")
	webSvc.PersonPhoto("/photo/:id")

	// endregion
	// region Менеджер управления всеми

	managerCtl, err := manager.NewManager(ctx, &manager.ConfigManager{
		Log:               log,
		ScannerCtl:        scannersAll,
		SkudSvc:           skudSvc,
		AlertSvc:          alertSvc,
		WebSvc:            webSvc,
		DbStore:           dbStore,
		DebounceTTL:       time.Second * time.Duration(cfg.Scanner.DebounceTTL),
		AnalyticsInterval: time.Second * time.Duration(cfg.Skud.AnalyticsInterval),
		CleanBasePeriod:   time.Hour * 24 * time.Duration(cfg.Db.ArchiveDays),
		CleanBaseInterval: time.Minute * time.Duration(cfg.Db.CleanArchiveInterval),
	})
	if err != nil {
		return errors.Trace(err)
	}

	go func() {
		err := managerCtl.Serve()
		if err != nil && err.Error() != context.Canceled.Error() {
			done <- errors.Trace(err)
		}
		done <- nil
	}()

	// endregion

	// Процесс завершения работы
	select {
	case err := <-done:
		return errors.Trace(err)
	case <-chanInterrupt:
		log.Info("получена по каналу interrupt команда на завершение работы программы")
		cancel()
		time.Sleep(time.Second)
		return nil
	}
}
