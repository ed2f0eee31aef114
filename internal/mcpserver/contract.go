package mcpserver

// LayerMetadataContract describes the side-car document stored next to the
// KML files of every project folder.
const LayerMetadataContract = `# oohmap Layer Metadata Format

Every project folder holds its layers as KML files plus one JSON document,
` + "`" + `.metadata.json` + "`" + `, with the display settings of each layer.

## Structure

` + "```" + `json
{
  "project": {
    "id": "01234567-89ab-cdef-0123-456789abcdef",
    "name": "Campanha Verão"
  },
  "layers": {
    "<layer file id>": {
      "name": "Pontos SP",
      "color": "#e74c3c",
      "icon": "pin",
      "visible": true,
      "opacity": 1.0,
      "pointCount": 42,
      "file": "Pontos_SP.kml",
      "created": "2024-05-01T12:00:00.000Z"
    }
  }
}
` + "```" + `

## Rules

1. Keys of ` + "`" + `layers` + "`" + ` are file-store ids of the KML files, not names.
2. A layer file without an entry is listed with defaults: color ` + "`" + `#e74c3c` + "`" + `,
   icon ` + "`" + `pin` + "`" + `, visible ` + "`" + `true` + "`" + `, opacity ` + "`" + `1.0` + "`" + `, pointCount ` + "`" + `0` + "`" + `.
3. An entry whose file is gone or soft-deleted is ignored when listing.
   Deleting a layer renames its file with the ` + "`" + `_EXCLUIDO_` + "`" + ` marker and keeps the entry.
4. ` + "`" + `color` + "`" + ` is ` + "`" + `#rrggbb` + "`" + `. KML files store the same color as ` + "`" + `aabbggrr` + "`" + `.
5. ` + "`" + `icon` + "`" + ` is one of: pin, store, building, flag, star, target, billboard.
   Unknown names are drawn as pin.
6. ` + "`" + `pointCount` + "`" + ` is the number of placemarks found when the file was uploaded.
7. The document is rewritten whole on every change; the last writer wins
   unless optimistic metadata writes are enabled.

## Layer files

- One KML 2.2 document per layer, UTF-8.
- Placemarks carry ` + "`" + `Point` + "`" + `, ` + "`" + `LineString` + "`" + ` or ` + "`" + `Polygon` + "`" + ` geometries;
  ` + "`" + `MultiGeometry` + "`" + ` is read but never written.
- Extra attributes live in ` + "`" + `ExtendedData/Data` + "`" + ` elements.
- Use the ` + "`" + `validate_kml` + "`" + ` tool before uploading hand-written KML.
`
