package service

// mapInitFor resolves the configured provider and style to concrete tile
// parameters. A mapbox setup without a token returns ok=false: the session
// reports the map as unavailable instead of serving broken tiles.
func mapInitFor(st Settings) (MapInit, bool) {
	init := MapInit{
		Style:   st.Style,
		MinZoom: 0,
		MaxZoom: st.MaxZoom,
	}

	switch st.Provider {
	case "mapbox":
		if st.MapboxToken == "" {
			return MapInit{}, false
		}
		styleID := "streets-v12"
		if st.Style == "satellite" {
			styleID = "satellite-v9"
		}
		init.TileURL = "https://api.mapbox.com/styles/v1/mapbox/" + styleID + "/tiles/{z}/{x}/{y}?access_token=" + st.MapboxToken
		init.Attribution = "© Mapbox © OpenStreetMap"

	case "esri":
		layer := "World_Street_Map"
		if st.Style == "satellite" {
			layer = "World_Imagery"
		}
		init.TileURL = "https://server.arcgisonline.com/ArcGIS/rest/services/" + layer + "/MapServer/tile/{z}/{y}/{x}"
		init.Attribution = "Esri, Maxar, Earthstar Geographics"

	default: // osm carries no satellite imagery; esri fills in
		if st.Style == "satellite" {
			init.TileURL = "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}"
			init.Attribution = "Esri, Maxar, Earthstar Geographics"
			break
		}
		init.TileURL = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"
		init.Attribution = "© OpenStreetMap contributors"
	}

	return init, true
}
