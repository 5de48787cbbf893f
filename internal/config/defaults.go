package config

// DefaultConfigYAML contains the default configuration YAML content.
// This is used by both `personatwin init` and the API reset endpoint to
// ensure consistency.
const DefaultConfigYAML = `# PersonaTwin Factory Configuration
#
# Values not specified here use sensible defaults.
# Every key can also be set via PERSONATWIN_* environment variables,
# e.g. PERSONATWIN_PROTECTION_EPSILON=0.5.

# Pipeline execution
pipeline:
  # Builtin domains: criminal_justice, healthcare, education,
  # social_services, employment
  domain: criminal_justice
  max_iterations: 5
  # 0 means one worker per demographic bucket
  workers: 0
  # 0 means derive the seed from the run request
  seed: 0

# Privacy protection parameters (the starting point; the pipeline
# escalates from here until the risk target is met)
protection:
  min_group_size: 5
  max_group_size: 50
  age_tolerance: 3
  geo_bucket_level: county
  epsilon: 1.0
  temporal_sensitivity_days: 14
  flip_probability: 0.05
  generalization_level: county
  target_risk: 0.05

# Demographic distributions for linkage scoring.
# Empty file means the national fallback distribution.
census:
  file: ""

# Custom domain rules (YAML). Empty means the builtin rule set
# for pipeline.domain.
rules:
  file: ""

# Persona export
output:
  dir: .personatwin/out
  format: json

# Run persistence
store:
  path: .personatwin/runs.db
  busy_timeout: 5s

# HTTP API server (personatwin serve)
server:
  addr: 127.0.0.1:8420
  cors_origins:
    - http://localhost:3000
  read_timeout: 30s
  write_timeout: 30s
  shutdown_timeout: 10s

# Logging
log:
  level: info
  format: auto
`
