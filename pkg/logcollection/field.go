package logcollection

// LogField is a structured field independent of the logging backend
type LogField struct {
	Key   string
	Value interface{}
	Type  FieldType
}

type FieldType int

const (
	StringField FieldType = iota
	IntField
	ErrorField
)

func String(key, value string) LogField {
	return LogField{Key: key, Value: value, Type: StringField}
}

func Int(key string, value int) LogField {
	return LogField{Key: key, Value: value, Type: IntField}
}

func Error(err error) LogField {
	return LogField{Key: "error", Value: err, Type: ErrorField}
}

// Domain fields

func Service(serviceID string) LogField {
	return String("service", serviceID)
}

func Stream(stream StreamType) LogField {
	return String("stream", string(stream))
}

func PID(pid int) LogField {
	return Int("pid", pid)
}
