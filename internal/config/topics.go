package config

type TopicStruct struct {
	AttemptStarted   string
	AttemptFinalized string
}

// Topics names the message bus topics the attempt engine publishes to.
var Topics = &TopicStruct{
	AttemptStarted:   "exstem.attempt.started",
	AttemptFinalized: "exstem.attempt.finalized",
}
