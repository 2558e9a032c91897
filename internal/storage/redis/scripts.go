package redis

import "github.com/redis/go-redis/v9"

// Player records are hashes so each script can touch only the fields it
// owns. Every script bumps "version" and returns nil when a player key is
// missing, which surfaces as redis.Nil.

// upsertScript creates the player with defaults if missing, then applies
// field sets and deletes.
//
// KEYS[1] player hash, KEYS[2] players index
// ARGV[1] id, ARGV[2] now, ARGV[3] now score, ARGV[4] default points,
// ARGV[5] number of set pairs, then the pairs, then the fields to delete.
var upsertScript = redis.NewScript(`
local created = 0
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('HSET', KEYS[1], 'id', ARGV[1], 'points', ARGV[4], 'revealed', '0',
    'is_guest', '0', 'version', '0', 'created_at', ARGV[2])
  redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
  created = 1
end
local n = tonumber(ARGV[5])
local i = 6
for _ = 1, n do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
  i = i + 2
end
while i <= #ARGV do
  redis.call('HDEL', KEYS[1], ARGV[i])
  i = i + 1
end
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'version', 1)
return created
`)

// changePointsScript adds a delta, clamping to an optional floor.
//
// KEYS[1] player hash
// ARGV[1] delta, ARGV[2] floor or "", ARGV[3] now
var changePointsScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return nil
end
local points = tonumber(redis.call('HGET', KEYS[1], 'points')) + tonumber(ARGV[1])
if ARGV[2] ~= '' and points < tonumber(ARGV[2]) then
  points = tonumber(ARGV[2])
end
redis.call('HSET', KEYS[1], 'points', tostring(points), 'updated_at', ARGV[3])
redis.call('HINCRBY', KEYS[1], 'version', 1)
return points
`)

// markRevealedScript sets the reveal fields once.
//
// KEYS[1] player hash
// ARGV[1] revealed by, ARGV[2] revealed at, ARGV[3] clear secret,
// ARGV[4] check expected, ARGV[5] expected secret
var markRevealedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return nil
end
if redis.call('HGET', KEYS[1], 'revealed') == '1' then
  return 'unchanged'
end
if ARGV[4] == '1' then
  local secret = redis.call('HGET', KEYS[1], 'secret')
  if not secret or secret == '' then
    return 'no_secret'
  end
  if secret ~= ARGV[5] then
    return 'mismatch'
  end
end
redis.call('HSET', KEYS[1], 'revealed', '1', 'revealed_by', ARGV[1],
  'revealed_at', ARGV[2], 'updated_at', ARGV[2])
if ARGV[3] == '1' then
  redis.call('HDEL', KEYS[1], 'secret')
end
redis.call('HINCRBY', KEYS[1], 'version', 1)
return 'changed'
`)

// revealAndPayScript settles a reveal across both records.
//
// KEYS[1] target hash, KEYS[2] guesser hash
// ARGV[1] guesser id, ARGV[2] at, ARGV[3] clear secret,
// ARGV[4] expected secret, ARGV[5] win delta, ARGV[6] zero target
var revealAndPayScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 or redis.call('EXISTS', KEYS[2]) == 0 then
  return nil
end
if redis.call('HGET', KEYS[1], 'revealed') == '1' then
  return 'already_revealed'
end
local secret = redis.call('HGET', KEYS[1], 'secret')
if not secret or secret == '' then
  return 'no_secret'
end
if secret ~= ARGV[4] then
  return 'mismatch'
end
redis.call('HSET', KEYS[1], 'revealed', '1', 'revealed_by', ARGV[1],
  'revealed_at', ARGV[2], 'updated_at', ARGV[2])
if ARGV[3] == '1' then
  redis.call('HDEL', KEYS[1], 'secret')
end
if ARGV[6] == '1' then
  redis.call('HSET', KEYS[1], 'points', '0')
end
redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HINCRBY', KEYS[2], 'points', ARGV[5])
redis.call('HSET', KEYS[2], 'updated_at', ARGV[2])
redis.call('HINCRBY', KEYS[2], 'version', 1)
return 'ok'
`)

// chargeWrongGuessScript debits the guesser while the target is still open
// with the secret the guess was compared against.
//
// KEYS[1] target hash, KEYS[2] guesser hash
// ARGV[1] target secret, ARGV[2] delta, ARGV[3] floor or "", ARGV[4] now
var chargeWrongGuessScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 or redis.call('EXISTS', KEYS[2]) == 0 then
  return nil
end
if redis.call('HGET', KEYS[1], 'revealed') == '1' then
  return 'already_revealed'
end
local secret = redis.call('HGET', KEYS[1], 'secret')
if not secret or secret == '' then
  return 'no_secret'
end
if secret ~= ARGV[1] then
  return 'mismatch'
end
local points = tonumber(redis.call('HGET', KEYS[2], 'points')) + tonumber(ARGV[2])
if ARGV[3] ~= '' and points < tonumber(ARGV[3]) then
  points = tonumber(ARGV[3])
end
redis.call('HSET', KEYS[2], 'points', tostring(points), 'updated_at', ARGV[4])
redis.call('HINCRBY', KEYS[2], 'version', 1)
return 'ok'
`)

// Script status replies
const (
	statusUnchanged       = "unchanged"
	statusChanged         = "changed"
	statusNoSecret        = "no_secret"
	statusMismatch        = "mismatch"
	statusAlreadyRevealed = "already_revealed"
	statusOK              = "ok"
)
