package model

type Topic string

const (
	TopicMaterialize Topic = "materialize"
	TopicResolve     Topic = "resolve"
)

type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

type ResourceType string

const ResourceTypePatient ResourceType = "Patient"

type Job struct {
	Topic Topic
}

type ChangeEvent struct {
	Table     string
	Operation Operation
}
