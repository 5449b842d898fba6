package routes

type Tag string

const (
	TagHealth  Tag = "health"
	TagRuns    Tag = "runs"
	TagMeta    Tag = "meta"
	TagHistory Tag = "history"
)

func (t Tag) String() string { return string(t) }
