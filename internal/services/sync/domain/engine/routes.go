package engine

import (
	"fmt"

	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
)

// Route binds a command type to the aggregate that owns it.
type Route struct {
	CommandType command.Type
	Aggregate   Aggregate
}

// StreamKey resolves the stream a command targets.
func (r Route) StreamKey(cmd command.Command) string {
	return r.Aggregate.StreamKey(cmd.AggregateID)
}

// RouteTable is the static command-type to aggregate mapping. It is immutable once
// built.
type RouteTable struct {
	routes map[command.Type]Route
}

// NewRouteTable builds a route for every registered command from the aggregate its
// definition names. Every registered command must resolve.
func NewRouteTable(commands *command.Registry, aggregates ...Aggregate) (*RouteTable, error) {
	if commands == nil {
		return nil, ErrCommandRegistryRequired
	}
	byType := make(map[string]Aggregate, len(aggregates))
	for _, agg := range aggregates {
		if err := agg.validate(); err != nil {
			return nil, err
		}
		if _, dup := byType[agg.Type]; dup {
			return nil, fmt.Errorf("aggregate %s registered twice", agg.Type)
		}
		byType[agg.Type] = agg
	}
	table := &RouteTable{routes: make(map[command.Type]Route)}
	for _, cmdType := range commands.Types() {
		def, _ := commands.Definition(cmdType)
		agg, ok := byType[def.Aggregate]
		if !ok {
			return nil, fmt.Errorf("command %s names unknown aggregate %s", cmdType, def.Aggregate)
		}
		table.routes[cmdType] = Route{CommandType: cmdType, Aggregate: agg}
	}
	return table, nil
}

// Resolve returns the route for a command type.
func (t *RouteTable) Resolve(cmdType command.Type) (Route, error) {
	if t == nil {
		return Route{}, ErrRouteTableRequired
	}
	route, ok := t.routes[cmdType]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrRouteNotFound, cmdType)
	}
	return route, nil
}
