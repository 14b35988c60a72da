package config

// Version of the scraper, stamped into the user agent and archive metadata.
const Version = "0.4.0"
