package kixx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRouteSpec_LeafWithTargets(t *testing.T) {
	doc := json.RawMessage(`{
		"pattern": "/widgets",
		"targets": [{"name":"list","methods":"*","handlers":["static-response"]}]
	}`)
	route, err := ValidateRouteSpec(doc, "route[0]")
	require.NoError(t, err)

	assert.Equal(t, "/widgets", route.Name, "name defaults to the pattern when absent")
	assert.Len(t, route.Targets, 1)
	assert.Nil(t, route.Routes)
}

func TestValidateRouteSpec_RejectsNeitherRoutesNorTargets(t *testing.T) {
	doc := json.RawMessage(`{"pattern": "/widgets"}`)
	_, err := ValidateRouteSpec(doc, "route[0]")
	require.Error(t, err)
}

func TestValidateRouteSpec_RejectsBothRoutesAndTargets(t *testing.T) {
	doc := json.RawMessage(`{
		"pattern": "/widgets",
		"routes": [{"pattern": "/:id", "targets": [{"name":"get","methods":"*","handlers":["static-response"]}]}],
		"targets": [{"name":"list","methods":"*","handlers":["static-response"]}]
	}`)
	_, err := ValidateRouteSpec(doc, "route[0]")
	require.Error(t, err)
}

func TestValidateRouteSpec_RequiresPattern(t *testing.T) {
	doc := json.RawMessage(`{"targets": [{"name":"list","methods":"*","handlers":["static-response"]}]}`)
	_, err := ValidateRouteSpec(doc, "route[0]")
	require.Error(t, err)
}

func TestCollapseSlashes(t *testing.T) {
	assert.Equal(t, "/widgets/42", collapseSlashes("/widgets//42"))
	assert.Equal(t, "/", collapseSlashes("//"))
	assert.Equal(t, "/widgets", collapseSlashes("/widgets"))
}

func TestFlattenRoutes_NamePatternConcatenation(t *testing.T) {
	child := &RouteSpec{
		Name:    "detail",
		Pattern: "/:id",
		Targets: []*TargetSpec{{Name: "get", Methods: AllMethods, Handlers: []MiddlewareRef{ResolvedMiddlewareRef(noopHandler)}}},
	}
	parent := &RouteSpec{
		Name:    "widgets",
		Pattern: "/widgets",
		Routes:  []*RouteSpec{child},
	}

	flat := flattenRoutes([]*RouteSpec{parent})
	require.Len(t, flat, 1)

	assert.Equal(t, "widgets:detail", flat[0].Name)
	assert.Equal(t, "/widgets/:id", flat[0].Pattern)
}

func TestFlattenRoutes_TopLevelPassesThroughUnchanged(t *testing.T) {
	route := &RouteSpec{
		Name:    "widgets",
		Pattern: "/widgets",
		Targets: []*TargetSpec{{Name: "list", Methods: AllMethods, Handlers: []MiddlewareRef{ResolvedMiddlewareRef(noopHandler)}}},
	}

	flat := flattenRoutes([]*RouteSpec{route})
	require.Len(t, flat, 1)
	assert.Equal(t, "widgets", flat[0].Name)
	assert.Equal(t, "/widgets", flat[0].Pattern)
}

func TestFlattenRoutes_WildcardParentPatternIsReplaced(t *testing.T) {
	child := &RouteSpec{
		Name:    "detail",
		Pattern: "/:id",
		Targets: []*TargetSpec{{Name: "get", Methods: AllMethods, Handlers: []MiddlewareRef{ResolvedMiddlewareRef(noopHandler)}}},
	}
	parent := &RouteSpec{
		Name:    "root",
		Pattern: "*",
		Routes:  []*RouteSpec{child},
	}

	flat := flattenRoutes([]*RouteSpec{parent})
	require.Len(t, flat, 1)
	assert.Equal(t, "/:id", flat[0].Pattern, "a parent pattern of \"*\" must not be concatenated onto the child")
}

func TestFlattenRoutes_MiddlewareOrdering(t *testing.T) {
	parentInbound := MiddlewareRef{Name: "parent-inbound", Resolved: noopHandler}
	parentOutbound := MiddlewareRef{Name: "parent-outbound", Resolved: noopHandler}
	childInbound := MiddlewareRef{Name: "child-inbound", Resolved: noopHandler}
	childOutbound := MiddlewareRef{Name: "child-outbound", Resolved: noopHandler}

	child := &RouteSpec{
		Name:               "detail",
		Pattern:            "/:id",
		InboundMiddleware:  []MiddlewareRef{childInbound},
		OutboundMiddleware: []MiddlewareRef{childOutbound},
		Targets:            []*TargetSpec{{Name: "get", Methods: AllMethods, Handlers: []MiddlewareRef{ResolvedMiddlewareRef(noopHandler)}}},
	}
	parent := &RouteSpec{
		Name:               "widgets",
		Pattern:            "/widgets",
		InboundMiddleware:  []MiddlewareRef{parentInbound},
		OutboundMiddleware: []MiddlewareRef{parentOutbound},
		Routes:             []*RouteSpec{child},
	}

	flat := flattenRoutes([]*RouteSpec{parent})
	require.Len(t, flat, 1)

	require.Len(t, flat[0].Inbound, 2)
	assert.Equal(t, parentInbound.Name, flat[0].Inbound[0].Name, "inbound is parent++child, outer to inner")
	assert.Equal(t, childInbound.Name, flat[0].Inbound[1].Name)

	require.Len(t, flat[0].Outbound, 2)
	assert.Equal(t, childOutbound.Name, flat[0].Outbound[0].Name, "outbound is child++parent, inner to outer")
	assert.Equal(t, parentOutbound.Name, flat[0].Outbound[1].Name)
}

func TestHTTPRoute_FindTarget(t *testing.T) {
	getOnly := &HTTPTarget{Name: "get", Methods: []string{"GET", "HEAD"}}
	postOnly := &HTTPTarget{Name: "create", Methods: []string{"POST"}}
	route := &HTTPRoute{Targets: []*HTTPTarget{getOnly, postOnly}}

	target, ok := route.findTarget("POST")
	require.True(t, ok)
	assert.Equal(t, "create", target.Name)

	_, ok = route.findTarget("DELETE")
	assert.False(t, ok)
}

func TestHTTPRoute_AllowedMethods_IsUnionDeduplicated(t *testing.T) {
	route := &HTTPRoute{Targets: []*HTTPTarget{
		{Methods: []string{"GET", "HEAD"}},
		{Methods: []string{"HEAD", "POST"}},
	}}

	assert.ElementsMatch(t, []string{"GET", "HEAD", "POST"}, route.allowedMethods())
}

func TestFlatRouteSpec_ToHTTPRoute_CompilesMatcher(t *testing.T) {
	flat := &flatRouteSpec{
		Name:    "widgets:detail",
		Pattern: "/widgets/:id",
		Targets: []*TargetSpec{{
			Name:     "get",
			Methods:  AllMethods,
			Handlers: []MiddlewareRef{ResolvedMiddlewareRef(noopHandler)},
		}},
	}

	route, err := flat.toHTTPRoute()
	require.NoError(t, err)

	params, ok := route.matchPathname("/widgets/42")
	require.True(t, ok)
	id, _ := params.Get("id")
	assert.Equal(t, "42", id)
}
