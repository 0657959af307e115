package config

type (

	// Config конфигурация программы
	Config struct {

		// Описание логирования
		Log struct {

			// Путь к файлу лога
			Path string

			// Имя файла логирования
			Filename string `required:"true" default:"gatepad.log"`

			// Уровень логирования
			Level string `required:"true" default:"warning"`

			// Выводить лог только на консоль
			Console bool `default:"false"`
		}

		// Описываем подключение к локальной базе данных
		Db struct {

			// Путь к расположению базы данных
			Path string

			// Имя файла базы данных
			Filename string `required:"true" default:"gatepad.sqlite"`

			// Количество дней хранения локального журнала проходов
			ArchiveDays int `default:"30"`

			// Период очистки журнала до ArchiveDays в минутах
			CleanArchiveInterval int `default:"30"`
		}

		// Описание СКУД кампуса
		Skud struct {

			// Базовый адрес REST API, например http://127.0.0.1:8000/api
			URL string `required:"true"`

			// Адрес WebSocket канала оповещений, например ws://127.0.0.1:8000/ws
			AlertsURL string `required:"true"`

			// Таймаут обращения к REST API (в секундах)
			RequestTimeout uint `default:"10"`

			// Количество попыток переподключения к каналу оповещений
			ReconnectAttempts uint `default:"5"`

			// Пауза между попытками переподключения (в секундах)
			ReconnectTimeout uint `default:"1"`

			// Период обновления сводной аналитики (в секундах)
			AnalyticsInterval uint `default:"30"`
		}

		// Описание киосков-сканеров на проходных
		Scanner struct {

			// Время подавления повторной отправки одинакового QR-кода (в секундах)
			DebounceTTL uint `default:"5"`

			// Адреса киосков
			Info []struct {

				// Идентификатор киоска. По нему ведётся локальный журнал
				ID uint `required:"true"`

				// Адрес WebSocket канала киоска, например ws://192.168.10.15:8000/feed
				Address string `required:"true" default:""`

				// Имя киоска
				Name string `required:"true" default:""`

				// Описание киоска
				Description string
			}
		}

		// Обслуживание WEB-сервера рабочего стола охраны
		Http struct {

			// Порт WEB-сервера
			Port uint `required:"true" default:"8080"`

			// Корень директории со статическим контентом
			AssetsDir string `default:"assets"`

			// Путь к папке с кэшем фотографий персон
			PhotoDir string `default:"./imagedb/persons"`
		}
	}
)
