package properties

// ApplyDefaults fills every unset value with the value the services were
// designed around.
func (c *Config) ApplyDefaults() {
	if c.Application.LogLevel == "" {
		c.Application.LogLevel = "info"
	}

	if c.Broker.Network == "" {
		c.Broker.Network = "tcp"
	}
	if c.Broker.Address == "" {
		c.Broker.Address = "127.0.0.1"
	}
	if c.Broker.Port == "" {
		c.Broker.Port = "5680"
	}
	if c.Broker.MaxConcurrentStreams == 0 {
		c.Broker.MaxConcurrentStreams = 256
	}
	if c.Broker.MaxRedeliveries == 0 {
		c.Broker.MaxRedeliveries = 3
	}

	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = 30000
	}

	if c.Clock.MinTick == 0 {
		c.Clock.MinTick = 4000
	}
	if c.Clock.MaxTick == 0 {
		c.Clock.MaxTick = 6000
	}

	if c.Agency.Queue == "" {
		c.Agency.Queue = "submit_research_proposal"
	}
	if c.Agency.InitialFunds == 0 {
		c.Agency.InitialFunds = 1000000
	}
	if c.Agency.MinGrant == 0 {
		c.Agency.MinGrant = 200000
	}
	if c.Agency.MaxGrant == 0 {
		c.Agency.MaxGrant = 500000
	}
	if c.Agency.GrantMonths == 0 {
		c.Agency.GrantMonths = 6
	}
	if c.Agency.Workers == 0 {
		c.Agency.Workers = 1
	}
	if c.Agency.ResumeInterval == 0 {
		c.Agency.ResumeInterval = 5000
	}
	if c.Agency.StorageDir == "" {
		c.Agency.StorageDir = "data/agency"
	}

	if c.University.Queue == "" {
		c.University.Queue = "university_requests"
	}
	if c.University.Workers == 0 {
		c.University.Workers = 4
	}
	if c.University.StorageDir == "" {
		c.University.StorageDir = "data/university"
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
}
