package offlinecache

const bootstrapCDN = "https://cdn.jsdelivr.net/npm/bootstrap@5.3.3/dist"

// Manifest lists what install precaches and what offline fallbacks use.
// Entries may be relative to the worker's origin.
type Manifest struct {
	// Assets are fetched (bypassing HTTP caches) and stored in the precache.
	Assets []string
	// OfflinePage is served when a navigation or asset cannot be answered.
	OfflinePage string
	// Icons are tried in order as the fallback for failed image requests.
	Icons []string
}

// DefaultManifest is the bootstrap asset list of the lots app for version.
func DefaultManifest(version string) Manifest {
	v := "?v=" + version
	return Manifest{
		Assets: []string{
			"/",
			"/offline.html",
			"/static/lang/fr.json",
			"/static/lang/ar.json",
			"/static/lang/en.json",
			"/manifest.json",
			"/static/css/app.min.css" + v,
			"/static/js/app.min.js" + v,
			"/static/images/vigifroid_icon.png" + v,
			"/static/images/safran_icon.png" + v,
			"/static/manifest.json" + v,
			bootstrapCDN + "/css/bootstrap.min.css",
			bootstrapCDN + "/js/bootstrap.bundle.min.js",
		},
		OfflinePage: "/offline.html",
		Icons: []string{
			"/static/images/vigifroid_icon.png" + v,
			"/static/images/vigifroid_icon.png",
		},
	}
}
