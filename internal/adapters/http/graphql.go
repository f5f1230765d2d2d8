package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/nimbuspos/dispatchboard/internal/core/domain"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	riderType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Rider",
		Fields: graphql.Fields{
			"rider_id":    &graphql.Field{Type: graphql.String},
			"rider_name":  &graphql.Field{Type: graphql.String},
			"rider_phone": &graphql.Field{Type: graphql.String},
			"position":    &graphql.Field{Type: geoPointType},
			"heading":     &graphql.Field{Type: graphql.Float},
			"speed":       &graphql.Field{Type: graphql.Float},
			"status":      &graphql.Field{Type: graphql.String},
			"updated_at":  &graphql.Field{Type: graphql.DateTime},
		},
	})

	orderItemType := graphql.NewObject(graphql.ObjectConfig{
		Name: "OrderItem",
		Fields: graphql.Fields{
			"name":       &graphql.Field{Type: graphql.String},
			"unit_price": &graphql.Field{Type: graphql.Float},
			"quantity":   &graphql.Field{Type: graphql.Int},
			"line_total": &graphql.Field{Type: graphql.Float},
			"discount":   &graphql.Field{Type: graphql.Float},
		},
	})

	orderType := graphql.NewObject(graphql.ObjectConfig{
		Name: "PendingOrder",
		Fields: graphql.Fields{
			"id":             &graphql.Field{Type: graphql.String},
			"order_number":   &graphql.Field{Type: graphql.String},
			"customer_name":  &graphql.Field{Type: graphql.String},
			"customer_phone": &graphql.Field{Type: graphql.String},
			"status":         &graphql.Field{Type: graphql.String},
			"total":          &graphql.Field{Type: graphql.Float},
			"items":          &graphql.Field{Type: graphql.NewList(orderItemType)},
			"created_at":     &graphql.Field{Type: graphql.DateTime},
		},
	})

	feedStatusType := graphql.NewObject(graphql.ObjectConfig{
		Name: "FeedStatus",
		Fields: graphql.Fields{
			"state":              &graphql.Field{Type: graphql.String},
			"topic":              &graphql.Field{Type: graphql.String},
			"last_error":         &graphql.Field{Type: graphql.String},
			"reconnect_attempts": &graphql.Field{Type: graphql.Int},
		},
	})

	alertType := graphql.NewObject(graphql.ObjectConfig{
		Name: "AlertState",
		Fields: graphql.Fields{
			"active":           &graphql.Field{Type: graphql.Boolean},
			"muted":            &graphql.Field{Type: graphql.Boolean},
			"interaction_seen": &graphql.Field{Type: graphql.Boolean},
			"pending_count":    &graphql.Field{Type: graphql.Int},
		},
	})

	historyPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "RiderLocationRecord",
		Fields: graphql.Fields{
			"time":     &graphql.Field{Type: graphql.DateTime},
			"rider_id": &graphql.Field{Type: graphql.String},
			"location": &graphql.Field{Type: geoPointType},
			"heading":  &graphql.Field{Type: graphql.Float},
			"speed":    &graphql.Field{Type: graphql.Float},
			"status":   &graphql.Field{Type: graphql.String},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"riders": &graphql.Field{
				Type:        graphql.NewList(riderType),
				Description: "Reconciled rider collection, newest-seen first",
				Args: graphql.FieldConfigArgument{
					"positioned": &graphql.ArgumentConfig{Type: graphql.Boolean, DefaultValue: false},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if positioned, _ := p.Args["positioned"].(bool); positioned {
						return deps.Tracker.Positioned(), nil
					}
					return deps.Tracker.Riders(), nil
				},
			},
			"rider": &graphql.Field{
				Type:        riderType,
				Description: "One rider by id",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					rider, ok := deps.Tracker.Rider(id)
					if !ok {
						return nil, nil
					}
					return rider, nil
				},
			},
			"riderHistory": &graphql.Field{
				Type:        graphql.NewList(historyPointType),
				Description: "Persisted location trail for one rider",
				Args: graphql.FieldConfigArgument{
					"rider_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"since":    &graphql.ArgumentConfig{Type: graphql.DateTime},
					"limit":    &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 500},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					riderID := p.Args["rider_id"].(string)
					limit := p.Args["limit"].(int)
					since, ok := p.Args["since"].(time.Time)
					if !ok {
						since = time.Now().Add(-1 * time.Hour)
					}
					return deps.Tracker.History(p.Context, riderID, since, limit)
				},
			},
			"pendingOrders": &graphql.Field{
				Type:        graphql.NewList(orderType),
				Description: "Orders awaiting an accept/reject decision",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Orders.Pending(), nil
				},
			},
			"alert": &graphql.Field{
				Type:        alertType,
				Description: "Order-cue state",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Orders.Alert(), nil
				},
			},
			"feedStatus": &graphql.Field{
				Type: graphql.NewObject(graphql.ObjectConfig{
					Name: "FeedStatuses",
					Fields: graphql.Fields{
						"locations": &graphql.Field{Type: feedStatusType},
						"orders":    &graphql.Field{Type: feedStatusType},
					},
				}),
				Description: "Connection state of both upstream streams",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return map[string]interface{}{
						"locations": deps.Tracker.FeedStatus(),
						"orders":    deps.Orders.FeedStatus(),
					}, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.Context(),
		})

		return c.JSON(result)
	}
}

// Ensure domain types carry the JSON tags graphql-go resolves fields by
var _ = domain.Rider{}
var _ = domain.PendingOrder{}
