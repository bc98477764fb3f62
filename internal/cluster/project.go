package cluster

import "math"

// Web-mercator projection between lng/lat degrees and normalized world
// coordinates in [0,1]. All clustering math runs in world units so pixel
// radii scale cleanly with zoom.

const maxMercatorLat = 85.05112878

// project converts lng/lat to world coordinates.
func project(lng, lat float64) (x, y float64) {
	if lat > maxMercatorLat {
		lat = maxMercatorLat
	}
	if lat < -maxMercatorLat {
		lat = -maxMercatorLat
	}
	sin := math.Sin(lat * math.Pi / 180)
	x = lng/360 + 0.5
	y = 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	return x, y
}

// unproject converts world coordinates back to lng/lat.
func unproject(x, y float64) (lng, lat float64) {
	lng = (x - 0.5) * 360
	lat = math.Atan(math.Sinh(math.Pi*(1-2*y))) * 180 / math.Pi
	return lng, lat
}
