package config

type WorkerKeyStruct struct {
	PersistAnswersQueue       string
	PersistViolationsQueue    string
	FinalizeAttemptsQueue     string
	PersistQuestionOrderQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAnswersQueue:       "persist_answers_queue",
	PersistViolationsQueue:    "persist_violations_queue",
	FinalizeAttemptsQueue:     "finalize_attempts_queue",
	PersistQuestionOrderQueue: "persist_question_order_queue",
}
