package redis

const (
	// upsertSessionScript atomically writes a session record and indexes it
	upsertSessionScript = `
local session_key = KEYS[1]     -- puzzlegate:session:{destinationID}
local sessions_set = KEYS[2]    -- puzzlegate:sessions

local destination_id = ARGV[1]
local count = ARGV[2]
local last_reset_date = ARGV[3]

redis.call('HSET', session_key,
  'destination_id', destination_id,
  'count', count,
  'last_reset_date', last_reset_date
)

redis.call('SADD', sessions_set, destination_id)

return 'OK'
`

	// deleteSessionScript atomically removes a session record and its index entry
	deleteSessionScript = `
local session_key = KEYS[1]     -- puzzlegate:session:{destinationID}
local sessions_set = KEYS[2]    -- puzzlegate:sessions

local destination_id = ARGV[1]

local removed = redis.call('DEL', session_key)
redis.call('SREM', sessions_set, destination_id)

return removed
`
)
