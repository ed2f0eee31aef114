// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes oohmap tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/oohmap/internal/geocode"
	"github.com/starford/oohmap/internal/kml"
	"github.com/starford/oohmap/internal/layers"
	"github.com/starford/oohmap/internal/mapdata"
	"github.com/starford/oohmap/internal/wizard"
)

const metadataURI = "oohmap://layer-metadata"

// MapService serves map points of a project record.
type MapService interface {
	MapData(ctx context.Context, recordID string) (*mapdata.MapData, bool, error)
}

// LayerReader lists and reads layers.
type LayerReader interface {
	List(ctx context.Context, projectID string) (*layers.Listing, error)
	ReadKML(ctx context.Context, projectID, layerID string) ([]byte, error)
}

// Geocoder resolves one address.
type Geocoder interface {
	Geocode(ctx context.Context, a geocode.Address) (*geocode.Result, error)
}

// Ingester runs the upload wizard.
type Ingester interface {
	Ingest(ctx context.Context, projectID, fileName string, data []byte, c wizard.Confirmer) (*wizard.Outcome, error)
	MaxFileSize() int64
}

// Deps are the services exposed as tools.
type Deps struct {
	Maps     MapService
	Layers   LayerReader
	Geocoder Geocoder
	Wizard   Ingester
}

// Server wraps the MCP server with oohmap tools.
type Server struct {
	mcp  *server.MCPServer
	deps Deps
}

// New creates a new MCP server with all oohmap tools registered.
func New(d Deps) *Server {
	s := &Server{deps: d}

	s.mcp = server.NewMCPServer(
		"oohmap",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_map_points",
		mcp.WithDescription("Return the out-of-home media points of a project: coordinates, address, "+
			"exhibitor, product, state and locality of every record in the project's dataset."),
		mcp.WithString("recordId", mcp.Required(), mcp.Description("Project record id or its Notion URL")),
	), s.getMapPoints)

	s.mcp.AddTool(mcp.NewTool("list_layers",
		mcp.WithDescription("List the active KML layers of a project with their style and point count."),
		mcp.WithString("projectId", mcp.Required(), mcp.Description("Project record id")),
	), s.listLayers)

	s.mcp.AddTool(mcp.NewTool("read_layer",
		mcp.WithDescription("Read a layer as GeoJSON features parsed from its KML file."),
		mcp.WithString("projectId", mcp.Required(), mcp.Description("Project record id")),
		mcp.WithString("layerId", mcp.Required(), mcp.Description("Layer file id, as returned by list_layers")),
	), s.readLayer)

	s.mcp.AddTool(mcp.NewTool("geocode_address",
		mcp.WithDescription("Resolve a street address to coordinates. Requests are rate limited; "+
			"prefer passing city and state for better matches."),
		mcp.WithString("address", mcp.Required(), mcp.Description("Street and number")),
		mcp.WithString("city", mcp.Description("City")),
		mcp.WithString("state", mcp.Description("State or UF")),
		mcp.WithString("zipcode", mcp.Description("Postal code")),
		mcp.WithString("country", mcp.Description("Country, defaults to the configured one")),
	), s.geocodeAddress)

	s.mcp.AddTool(mcp.NewTool("validate_kml",
		mcp.WithDescription("Check that a KML document parses and count its placemarks."),
		mcp.WithString("content", mcp.Required(), mcp.Description("KML document text")),
	), s.validateKML)

	s.mcp.AddTool(mcp.NewTool("import_layer",
		mcp.WithDescription("Import a KML, CSV or XLSX file into a project as a new layer. "+
			"Spreadsheet columns are detected automatically and every row is geocoded."),
		mcp.WithString("projectId", mcp.Required(), mcp.Description("Project record id")),
		mcp.WithString("url", mcp.Required(), mcp.Description("HTTP(S) URL or base64 data URI of the file")),
		mcp.WithString("fileName", mcp.Description("File name; its extension selects the format")),
	), s.importLayer)

	s.mcp.AddTool(mcp.NewTool("get_layer_metadata_format",
		mcp.WithDescription("Returns the layer metadata side-car format. "+
			"Call this before reasoning about layer colors, icons or visibility."),
	), s.getMetadataFormat)

	s.mcp.AddResource(
		mcp.NewResource(metadataURI, "Layer Metadata Format",
			mcp.WithResourceDescription("Format of the per-project layer metadata document and layer KML files."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readMetadataResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func optional(req mcp.CallToolRequest, name string) string {
	if v, err := req.RequireString(name); err == nil {
		return v
	}
	return ""
}

func (s *Server) getMapPoints(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("recordId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, _, err := s.deps.Maps.MapData(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(data), nil
}

func (s *Server) listLayers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("projectId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	listing, err := s.deps.Layers.List(ctx, projectID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(listing), nil
}

func (s *Server) readLayer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("projectId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	layerID, err := req.RequireString("layerId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.deps.Layers.ReadKML(ctx, projectID, layerID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", layerID)), nil
	}
	fc, err := kml.Parse(data)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(fc), nil
}

func (s *Server) geocodeAddress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	street, err := req.RequireString("address")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.deps.Geocoder.Geocode(ctx, geocode.Address{
		Address: street,
		City:    optional(req, "city"),
		State:   optional(req, "state"),
		Zipcode: optional(req, "zipcode"),
		Country: optional(req, "country"),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) validateKML(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(kml.Validate([]byte(content))), nil
}

func (s *Server) getMetadataFormat(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(LayerMetadataContract), nil
}

func (s *Server) readMetadataResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      metadataURI,
			MIMEType: "text/markdown",
			Text:     LayerMetadataContract,
		},
	}, nil
}
