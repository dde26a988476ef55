package testutil

import "github.com/zjrosen/tessera/internal/component"

// WithAppPreset adds a small application graph:
//
//	app -> store -> logger
//	app -> logger
//	list (pattern .list, ref "items" to .item, deferred)
//	row  (pattern .item)
//
// Every definition records its hooks.
func (s *DefinitionSet) WithAppPreset() *DefinitionSet {
	return s.
		With("logger", Recorded()).
		With("store", Requires("logger"), Recorded()).
		With("app", Requires("store", "logger"), Recorded()).
		With("list", Pattern(".list"), DeferredRef("items", ".item", true), Recorded()).
		With("row", Pattern(".item"), Recorded())
}

// AppShape is a tree over the app preset: app > list > row#k1, row#k2.
func AppShape() component.Shape {
	return component.Shape{
		Component: "app",
		Key:       "main",
		Children: []component.Shape{{
			Component: "list",
			Key:       "l",
			Children: []component.Shape{
				{Component: "row", Key: "k1"},
				{Component: "row", Key: "k2"},
			},
		}},
	}
}
