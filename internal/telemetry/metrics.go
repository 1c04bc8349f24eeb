package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики ядра оркестрации.
var (
	// JobsCreated — созданные задания.
	JobsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waveline_jobs_created_total",
		Help: "Total jobs accepted by the orchestration API",
	})

	// JobsCompleted — задания по терминальному статусу.
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waveline_jobs_finished_total",
		Help: "Total jobs reaching a terminal status",
	}, []string{"status"})

	// StepsDispatched — отправленные шаги по сервисам.
	StepsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waveline_steps_dispatched_total",
		Help: "Total step dispatches onto service queues",
	}, []string{"service"})

	// CacheHits — попадания в кэш детерминированных операций.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waveline_cache_hits_total",
		Help: "Total steps satisfied from the cache index",
	})

	// CacheMisses — промахи кэша.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waveline_cache_misses_total",
		Help: "Total cache lookups that missed",
	})

	// StatusEvents — обработанные статусные сообщения по исходу.
	StatusEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waveline_status_events_total",
		Help: "Total worker status events applied",
	}, []string{"outcome"})

	// StepsReaped — шаги, снятые sweeper'ом по таймауту.
	StepsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waveline_steps_reaped_total",
		Help: "Total steps failed by the timeout sweeper",
	})

	// Retries — запрошенные retry заданий.
	Retries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waveline_job_retries_total",
		Help: "Total job retries requested",
	})
)
