package redis

// Keys builds the index key layout. Every key shares one hash tag so the
// multi-key scripts stay in a single cluster slot:
//
//	{ws}:topic:<topic>  SET of connection ids
//	{ws}:conn:<id>      SET of topic names
//	{ws}:topics         SET of topic names with at least one subscriber
//	{ws}:nodes          HASH node id -> heartbeat JSON
//	{ws}:leader:sweeper STRING lock holder
type Keys struct {
	base string
}

func NewKeys(prefix string) Keys {
	return Keys{base: "{" + prefix + "}:"}
}

func (k Keys) Base() string { return k.base }

func (k Keys) Topic(topic string) string { return k.base + "topic:" + topic }

func (k Keys) Conn(connID string) string { return k.base + "conn:" + connID }

func (k Keys) Topics() string { return k.base + "topics" }

func (k Keys) Nodes() string { return k.base + "nodes" }

func (k Keys) Leader(role string) string { return k.base + "leader:" + role }
