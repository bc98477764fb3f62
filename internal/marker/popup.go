package marker

import (
	"fmt"
	"html/template"
	"strings"

	"fleetwise/internal/domain/fleet"
)

// PopupData is everything the vehicle popup shows. All string fields come
// from external systems (plates, driver names, geocoder responses) and must
// be treated as untrusted.
type PopupData struct {
	VehicleID   string
	Plate       string
	DriverName  string
	DriverPhone string
	Status      fleet.Status
	SpeedKmh    float64
	FuelPercent *float64
	Address     string
	Lat         float64
	Lng         float64
}

var popupTmpl = template.Must(template.New("popup").Parse(`<div class="vehicle-popup">
<div class="popup-title">{{.Title}}</div>
<div class="popup-row">{{.Status}} &middot; {{.Speed}} km/h</div>
{{if .Driver}}<div class="popup-row">{{.Driver}}</div>
{{end}}{{if .Fuel}}<div class="popup-row">Fuel {{.Fuel}}</div>
{{end}}<div class="popup-address">{{.Address}}</div>
</div>`))

type popupView struct {
	Title   string
	Status  string
	Speed   string
	Driver  string
	Fuel    string
	Address string
}

// RenderPopup renders the popup HTML for a vehicle. Every dynamic value goes
// through html/template so a hostile plate or geocoder response renders as
// text instead of executing. When no address is known yet the coordinates
// stand in until the geocoder answers.
func RenderPopup(d PopupData) (string, error) {
	title := d.Plate
	if title == "" {
		title = d.VehicleID
	}

	driver := d.DriverName
	if driver != "" && d.DriverPhone != "" {
		driver = driver + " (" + d.DriverPhone + ")"
	}

	fuel := ""
	if d.FuelPercent != nil {
		fuel = fmt.Sprintf("%.0f%%", *d.FuelPercent)
	}

	address := d.Address
	if address == "" {
		address = fmt.Sprintf("%.5f, %.5f", d.Lat, d.Lng)
	}

	var sb strings.Builder
	err := popupTmpl.Execute(&sb, popupView{
		Title:   title,
		Status:  d.Status.String(),
		Speed:   fmt.Sprintf("%.0f", d.SpeedKmh),
		Driver:  driver,
		Fuel:    fuel,
		Address: address,
	})
	if err != nil {
		return "", fmt.Errorf("render popup: %w", err)
	}
	return sb.String(), nil
}
