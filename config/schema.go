package config

// schemaSource constrains and defaults every configuration file. YAML and
// CUE inputs are both unified with #Config before decoding.
const schemaSource = `
#Projectile: {
	nuclide: *"34Ar" | string
	energy:  *55.4 | number & >0
}

#Window: {
	material: string
	density:  number & >0
	distance: number & >=0
}

#Table: {
	projectile: string
	target:     string
	file:       string
}

#Column: {
	name: string & =~"^[A-Za-z_][A-Za-z0-9_]*$"
	expr: string
}

#Config: {
	name?:        string
	description?: string

	logging: {
		level:  *"info" | string
		format: *"auto" | "json" | "text"
		loki: {
			enabled: *false | bool
			url:     *"" | string
			labels: {[string]: string}
		}
	}

	telemetry: {
		enabled:  *false | bool
		provider: *"prometheus" | string
	}

	data: {
		dir:    *"data" | string
		tables: *[] | [...#Table]
		masses: {[string]: number & >0}
		molar_masses: {[string]: number & >0}
	}

	integration: {
		step_fraction: *1e-5 | number & >0 & <=1
	}

	setup: {
		beam_before:       #Projectile
		beam_after:        #Projectile
		reaction_location: *0.5 | number & >=0 & <=1
		jet: {
			material: *"He" | string
			rhoa:     *1e19 | number & >=0
			length:   *0.3 | number & >0
		}
		windows: *[{material: "Mylar", density: 1.39, distance: 3e-4}] | [...#Window]
		chamber: {
			material:    *"Butane" | string
			pressure:    *15.0 | number & >=0
			temperature: *300.0 | number & >0
			anodes:      *[2.0, 3.66, 3.66, 7.32, 18.3] | [...number & >=0]
		}
	}

	scan: {
		rhoa:      *[5e18, 1e19] | [...number & >=0]
		pressures: *[14.0, 15.0, 16.0] | [...number & >=0]
		workers:   *0 | int & >=0
		columns:   *[] | [...#Column]
	}

	output: {
		format:    *"text" | "csv" | "xlsx" | "json"
		path:      *"" | string
		precision: *6 | int & >=0 & <=15
	}

	server: {
		listen:           *":8080" | string
		rate_limit:       *20.0 | number & >0
		burst:            *40 | int & >0
		shutdown_timeout: *"5s" | string
		reload_interval:  *"2s" | string
	}

	hot_reload: *false | bool
}
`
