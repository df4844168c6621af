package config

type WorkerKeyStruct struct {
	PersistIncidentsQueue string
	NotifyResultsQueue    string
}

var WorkerKey = &WorkerKeyStruct{
	PersistIncidentsQueue: "persist_incidents_queue",
	NotifyResultsQueue:    "notify_results_queue",
}
